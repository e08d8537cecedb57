package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(http.Header{})
}

func encodeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, errors.Wrap(err, "failed to encode cached response")
	}
	return buf.Bytes(), nil
}

func decodeResponse(b []byte) (*Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode cached response")
	}
	return &resp, nil
}
