package models

import "time"

// Setting is a single runtime configuration value keyed by name.
type Setting struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}
