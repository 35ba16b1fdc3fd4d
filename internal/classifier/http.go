package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/fpt/nexus-guard/internal/store"
)

// Endpoints holds the classification URL per media kind.
type Endpoints struct {
	Text  string `json:"text_url" yaml:"text_url"`
	Audio string `json:"audio_url" yaml:"audio_url"`
	Image string `json:"image_url" yaml:"image_url"`
	Video string `json:"video_url" yaml:"video_url"`
}

const maxResponseBytes = 1 << 20

// HTTPClassifier submits text as JSON and media as multipart uploads to the
// endpoint matching the message kind. It makes exactly one attempt per call.
type HTTPClassifier struct {
	endpoints Endpoints
	client    *http.Client
}

// NewHTTPClassifier creates a classifier. A nil client uses http.DefaultClient;
// callers bound each call with the context deadline.
func NewHTTPClassifier(endpoints Endpoints, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{endpoints: endpoints, client: client}
}

// Classify routes the message by kind.
func (c *HTTPClassifier) Classify(ctx context.Context, msg store.Message) (Result, error) {
	switch msg.Kind {
	case store.KindText, store.KindEmail:
		return c.classifyText(ctx, c.endpoints.Text, msg.Content)
	case store.KindAudio:
		return c.classifyUpload(ctx, c.endpoints.Audio, "audio", "", msg.PayloadRef, true)
	case store.KindPhoto:
		return c.classifyUpload(ctx, c.endpoints.Image, "image", "", msg.PayloadRef, false)
	case store.KindVideo:
		return c.classifyUpload(ctx, c.endpoints.Video, "video", "video/mp4", msg.PayloadRef, true)
	default:
		return Result{}, &Error{Kind: ErrUnsupported, Err: fmt.Errorf("kind %s", msg.Kind)}
	}
}

func (c *HTTPClassifier) classifyText(ctx context.Context, endpoint, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, false)
}

func (c *HTTPClassifier) classifyUpload(ctx context.Context, endpoint, field, contentType, path string, withSpoof bool) (Result, error) {
	if path == "" {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: fmt.Errorf("no staged payload")}
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: err}
	}
	if err := mw.Close(); err != nil {
		return Result{}, &Error{Kind: ErrPayload, Endpoint: endpoint, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Result{}, &Error{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, withSpoof)
}

func (c *HTTPClassifier) do(req *http.Request, withSpoof bool) (Result, error) {
	endpoint := req.URL.String()

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, &Error{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &Error{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &Error{Kind: ErrStatus, Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	var wire response
	if err := json.Unmarshal(data, &wire); err != nil {
		return Result{}, &Error{Kind: ErrDecode, Endpoint: endpoint, Err: err}
	}
	return wire.normalize(withSpoof), nil
}
