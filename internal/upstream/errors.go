package upstream

import (
	"errors"
	"fmt"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
)

// ErrMissingInput is returned, without any network call, when a required
// token or device id is empty.
var ErrMissingInput = errors.New("upstream: missing token or device id")

// TransportError covers everything between us and a decoded JSON body:
// dial and timeout failures, non-2xx responses and undecodable bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("upstream %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream %s: http %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// VendorError is a well-formed vendor reply that signals failure, or lacks a
// field the caller needs.
type VendorError struct {
	Op      string
	Status  string
	Message string
}

func (e *VendorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream %s: vendor status %q: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %s: vendor status %q", e.Op, e.Status)
}

// CheckStatus returns a VendorError unless resp reports success.
func CheckStatus(op string, resp schemas.VendorResponse) error {
	if resp.OK() {
		return nil
	}
	return &VendorError{Op: op, Status: resp.Status(), Message: resp.Message()}
}

// ExtractToken validates an upload reply and returns its task token.
func ExtractToken(resp schemas.VendorResponse) (string, error) {
	if err := CheckStatus(OpUpload, resp); err != nil {
		return "", err
	}
	token := resp.Token()
	if token == "" {
		return "", &VendorError{Op: OpUpload, Status: resp.Status(), Message: "response carries no task token"}
	}
	return token, nil
}
