package vk

import "fmt"

// APIError is the error envelope returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// permissionErrorCodes are the VK error codes that indicate the group token
// lacks rights for the call and a user token may succeed instead.
var permissionErrorCodes = map[int]bool{
	5:   true, // user authorization failed
	7:   true, // permission denied
	15:  true, // access denied
	27:  true, // group authorization failed
	30:  true, // profile is private
	200: true, // access to album denied
}

// IsPermissionError reports whether the error code means the current token
// is not allowed to perform the call.
func (e *APIError) IsPermissionError() bool {
	return permissionErrorCodes[e.Code]
}
