package remix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"remix-studio-go/internal/logger"
	"remix-studio-go/internal/normalizer"
)

// Slot identifies one of the clothing-image roles in a submission.
type Slot string

const (
	SlotTop    Slot = "top"
	SlotBottom Slot = "bottom"
	SlotOuter  Slot = "outer"
	SlotDress  Slot = "dress"
)

// Slots lists all clothing slots in submission order.
func Slots() []Slot {
	return []Slot{SlotTop, SlotBottom, SlotOuter, SlotDress}
}

// FieldName returns the multipart field name for the slot.
func (s Slot) FieldName() string {
	return string(s) + "_image"
}

// Status is the normalized state of a remote generation job.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// ParseStatus normalizes a status value observed on the wire. Values are
// matched case-insensitively; unrecognized values pass through lowercased
// and are treated as non-terminal.
func ParseStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// Terminal reports whether no further status change is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Snapshot is the latest known state of a remote generation job.
type Snapshot struct {
	PredictionID string
	Status       Status
	Message      string
	Output       []string
	Error        string
	CreatedAt    string
	StartedAt    string
	CompletedAt  string
}

// Done reports whether the snapshot ends a polling session, either through
// a terminal status or a non-empty error field.
func (s Snapshot) Done() bool {
	return s.Status.Terminal() || s.Error != ""
}

const (
	submitPath = "/remix-images"
	statusPath = "/status"

	modelImageField = "model_image"
	numOutputsField = "num_outputs"

	// MaxOutputs is the largest number of result images the service accepts.
	MaxOutputs = 4
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client talks to the remote remix generation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a new Client instance. When no HTTP client is supplied
// a default one without a timeout is used; request deadlines are then the
// caller's responsibility via context.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

type submitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		PredictionID string `json:"prediction_id"`
		Status       string `json:"status"`
		NumOutputs   int    `json:"num_outputs"`
	} `json:"data"`
}

type statusRequest struct {
	PredictionID string `json:"prediction_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		PredictionID string          `json:"prediction_id"`
		Status       string          `json:"status"`
		Output       json.RawMessage `json:"output"`
		Error        *string         `json:"error"`
		CreatedAt    string          `json:"created_at"`
		StartedAt    string          `json:"started_at"`
		CompletedAt  string          `json:"completed_at"`
	} `json:"data"`
}

// Submit sends the model image and the populated clothing slots to the
// service and returns the prediction identifier of the created job. Absent
// slots are omitted from the request body entirely. numOutputs is included
// only when it lies in [1, MaxOutputs].
//
// The caller is responsible for supplying exactly one model image and at
// least one clothing slot.
func (c *Client) Submit(ctx context.Context, model normalizer.Asset, clothing map[Slot]normalizer.Asset, numOutputs int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := attachAsset(mw, modelImageField, model); err != nil {
		return "", &SubmissionError{Message: "failed to build request body", Err: err}
	}
	for _, slot := range Slots() {
		asset, ok := clothing[slot]
		if !ok {
			continue
		}
		if err := attachAsset(mw, slot.FieldName(), asset); err != nil {
			return "", &SubmissionError{Message: "failed to build request body", Err: err}
		}
	}
	if numOutputs >= 1 && numOutputs <= MaxOutputs {
		if err := mw.WriteField(numOutputsField, strconv.Itoa(numOutputs)); err != nil {
			return "", &SubmissionError{Message: "failed to build request body", Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return "", &SubmissionError{Message: "failed to build request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, &body)
	if err != nil {
		return "", &SubmissionError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Message: "network error", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	if out.Data.PredictionID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "response carries no prediction id"}
	}

	logger.WithJob(c.log, out.Data.PredictionID).WithFields(logrus.Fields{
		"num_outputs": numOutputs,
		"slots":       len(clothing),
	}).Info("remix job submitted")
	for _, slot := range Slots() {
		if _, ok := clothing[slot]; ok {
			logger.WithSlot(c.log, out.Data.PredictionID, string(slot)).Debug("clothing slot included")
		}
	}

	return out.Data.PredictionID, nil
}

// PollOnce issues a single status query for the given job.
func (c *Client) PollOnce(ctx context.Context, predictionID string) (*Snapshot, error) {
	payload, err := json.Marshal(statusRequest{PredictionID: predictionID})
	if err != nil {
		return nil, &PollError{Message: "failed to build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+statusPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &PollError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &PollError{Message: "network error", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PollError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PollError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	var out statusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &PollError{StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}

	snap := &Snapshot{
		PredictionID: out.Data.PredictionID,
		Status:       ParseStatus(out.Data.Status),
		Message:      out.Message,
		Output:       parseOutput(out.Data.Output),
		CreatedAt:    out.Data.CreatedAt,
		StartedAt:    out.Data.StartedAt,
		CompletedAt:  out.Data.CompletedAt,
	}
	if out.Data.Error != nil {
		snap.Error = *out.Data.Error
	}
	if snap.PredictionID == "" {
		snap.PredictionID = predictionID
	}
	return snap, nil
}

// attachAsset writes an asset as a multipart file part, carrying the asset's
// MIME type when known.
func attachAsset(mw *multipart.Writer, field string, asset normalizer.Asset) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, asset.Name))
	if asset.MIMEType != "" {
		header.Set("Content-Type", asset.MIMEType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(asset.Data)
	return err
}

// parseOutput accepts the wire forms of the output field: a single URL, an
// ordered list of URLs, or null.
func parseOutput(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// errorMessage extracts the server-provided message from a non-2xx body,
// falling back to a generic status-code message when the body is absent or
// unparseable.
func errorMessage(statusCode int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return fmt.Sprintf("HTTP error, status %d", statusCode)
}
