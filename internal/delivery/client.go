// Package delivery posts captures to the configured webhook as a multipart
// request: the JPEG under "file" and the message under "payload_json".
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 512

// Options configures the client and the rendered message.
type Options struct {
	URL               string
	Username          string
	AvatarURL         string
	Color             int
	IncludeTimestamp  bool
	IncludeSystemInfo bool
	Timeout           time.Duration
	Client            *http.Client
}

// Receipt describes a completed POST.
type Receipt struct {
	Status int
	Bytes  int
}

// Client sends captures. It never retries.
type Client struct {
	opts   Options
	client *http.Client
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := &http.Client{}
	if opts.Client != nil {
		copied := *opts.Client
		hc = &copied
	}
	hc.Timeout = opts.Timeout
	return &Client{opts: opts, client: hc}
}

// Send posts c once. Any status other than 200 or 204 is a DELIVERY_FAILED error.
func (c *Client) Send(ctx context.Context, capture Capture) (Receipt, error) {
	body, contentType, err := encodeMultipart(BuildPayload(c.opts, capture), capture)
	if err != nil {
		return Receipt{}, apperrors.Wrap(err, apperrors.CodeDeliveryFailed, "build multipart body")
	}
	size := body.Len()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, body)
	if err != nil {
		return Receipt{}, apperrors.Wrap(err, apperrors.CodeDeliveryFailed, "build request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return Receipt{}, apperrors.Wrap(err, apperrors.CodeDeliveryFailed, "post capture")
	}
	defer resp.Body.Close()

	rec := Receipt{Status: resp.StatusCode, Bytes: size}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Info("sent to webhook", "capture", capture.Index, "file", capture.Filename,
			"size", humanize.Bytes(uint64(len(capture.Image))))
		return rec, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return rec, apperrors.Newf(apperrors.CodeDeliveryFailed, "webhook returned %d", resp.StatusCode).
			WithMetadata("status", strconv.Itoa(resp.StatusCode)).
			WithMetadata("body", string(snippet))
	}
}

func encodeMultipart(p Payload, capture Capture) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, capture.Filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(capture.Image); err != nil {
		return nil, "", err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="payload_json"`)
	h.Set("Content-Type", "application/json")
	part, err = mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(part).Encode(p); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
