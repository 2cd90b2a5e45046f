package hec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxResponseSize bounds collector response reads. HEC acknowledgements are tiny.
const maxResponseSize = 1 << 20

const successText = "Success"

// Response is the collector acknowledgement for one request.
type Response struct {
	Text       string `json:"text"`
	Code       int    `json:"code"`
	StatusCode int    `json:"-"`
	Raw        string `json:"-"`
}

// OK reports whether the collector acknowledged the request as a success.
func (r *Response) OK() bool {
	return r != nil && r.Text == successText
}

func parseResponse(status int, body []byte) *Response {
	resp := &Response{StatusCode: status, Raw: strings.TrimSpace(string(body))}
	if err := json.Unmarshal(body, resp); err != nil {
		resp.Text = ""
		resp.Code = 0
	}
	return resp
}

// DeliveryError reports a batch that could not be delivered.
// The batch has already been discarded when this error is returned.
type DeliveryError struct {
	StatusCode int
	Body       string
	Events     int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hec: deliver %d events: %v", e.Events, e.Err)
	}
	return fmt.Sprintf("hec: deliver %d events: status %d: %s", e.Events, e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
