package authheader

import (
	"io"
	"net/http"
)

// newSignableRequest builds the synthetic POST request the iam arm signs
// (spec §4.1: "signs a synthetic POST request").
func newSignableRequest(url string, body io.Reader) (*http.Request, error) {
	return http.NewRequest(http.MethodPost, url, body)
}
