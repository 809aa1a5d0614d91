package src

type HTTPErrorCode = uint

const (
	HTTPErrorUnknownChannel HTTPErrorCode = 10003
	HTTPErrorUnknownGuild   HTTPErrorCode = 10004
	HTTPErrorUnknownUser    HTTPErrorCode = 10013
)

// http response when interacting with the API's resources
type ErrorHTTPResponse struct {
	Message string      `json:"message"`
	Code    uint        `json:"code"`
	Errors  interface{} `json:"errors,omitempty"`
}
