package httpkit

import (
	"bytes"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// CompressIfAccepted gzip-encodes rsp.Body in place when req advertises
// gzip support via Accept-Encoding, setting Content-Encoding and
// refreshing Content-Length. Responses under 256 bytes are left alone —
// the framing overhead outweighs the saving.
func CompressIfAccepted(req *Request, rsp *Response) error {
	if len(rsp.Body) < 256 {
		return nil
	}
	if !acceptsGzip(req.Header.Get("Accept-Encoding")) {
		return nil
	}
	if rsp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(rsp.Body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	rsp.Body = buf.Bytes()
	rsp.Header.Set("Content-Encoding", "gzip")
	rsp.Header.Del("Content-Length")
	return nil
}

func acceptsGzip(acceptEncoding string) bool {
	for _, tok := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(tok, ";", 2)[0])
		if strings.EqualFold(name, "gzip") {
			return true
		}
	}
	return false
}
