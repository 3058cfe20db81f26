package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contentflow/internal/engine"
	"contentflow/internal/queue"
)

// Envelope formats accepted in webhooks.<stage>.format.
const (
	FormatGeneric  = "generic"
	FormatHeyGen   = "heygen"
	FormatSubmagic = "submagic"
)

// Normalized is a vendor event reduced to the fields the engine needs.
type Normalized struct {
	JobID        string
	Outcome      engine.EventOutcome
	ResultURL    string
	ErrorMessage string
}

// Hash fingerprints the event for duplicate detection.
func (n Normalized) Hash(st queue.Stage) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(st), n.JobID, string(n.Outcome), n.ResultURL, n.ErrorMessage,
	}, "\x1f")))
	return hex.EncodeToString(sum[:])
}

type genericEnvelope struct {
	JobID        string `json:"job_id"`
	Outcome      string `json:"outcome"`
	ResultURL    string `json:"result_url"`
	ErrorMessage string `json:"error_message"`
}

type heygenEnvelope struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID string `json:"video_id"`
		URL     string `json:"url"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
	} `json:"event_data"`
}

type submagicEnvelope struct {
	ProjectID   string `json:"projectId"`
	ID          string `json:"id"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl"`
	DirectURL   string `json:"directUrl"`
	MediaURL    string `json:"media_url"`
	Error       string `json:"error"`
}

var errMalformed = errors.New("malformed event")

// Normalize decodes body in the given envelope format. Fields outside the
// envelope are ignored.
func Normalize(format string, st queue.Stage, body []byte) (Normalized, error) {
	var (
		n   Normalized
		err error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatGeneric:
		n, err = normalizeGeneric(body)
	case FormatHeyGen:
		n, err = normalizeHeyGen(body)
	case FormatSubmagic:
		n, err = normalizeSubmagic(body)
	default:
		return Normalized{}, fmt.Errorf("%w: unknown envelope format %q", errMalformed, format)
	}
	if err != nil {
		return Normalized{}, err
	}
	n.JobID = strings.TrimSpace(n.JobID)
	n.ResultURL = strings.TrimSpace(n.ResultURL)
	n.ErrorMessage = strings.TrimSpace(n.ErrorMessage)
	if n.JobID == "" {
		return Normalized{}, fmt.Errorf("%w: missing job id", errMalformed)
	}
	if n.Outcome == engine.OutcomeSuccess && st != queue.StageDistribute && n.ResultURL == "" {
		return Normalized{}, fmt.Errorf("%w: %s success without result url", errMalformed, st)
	}
	if n.Outcome == engine.OutcomeSuccess {
		n.ErrorMessage = ""
	}
	return n, nil
}

func normalizeGeneric(body []byte) (Normalized, error) {
	var env genericEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	outcome, ok := engine.ParseEventOutcome(env.Outcome)
	if !ok {
		return Normalized{}, fmt.Errorf("%w: unknown outcome %q", errMalformed, env.Outcome)
	}
	return Normalized{JobID: env.JobID, Outcome: outcome, ResultURL: env.ResultURL, ErrorMessage: env.ErrorMessage}, nil
}

func normalizeHeyGen(body []byte) (Normalized, error) {
	var env heygenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	n := Normalized{JobID: env.EventData.VideoID}
	switch env.EventType {
	case "avatar_video.success":
		n.Outcome = engine.OutcomeSuccess
		n.ResultURL = env.EventData.URL
	case "avatar_video.fail":
		n.Outcome = engine.OutcomeFailure
		n.ErrorMessage = firstNonEmpty(env.EventData.Msg, env.EventData.Error)
	default:
		return Normalized{}, fmt.Errorf("%w: unknown event type %q", errMalformed, env.EventType)
	}
	return n, nil
}

func normalizeSubmagic(body []byte) (Normalized, error) {
	var env submagicEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Normalized{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	outcome, ok := engine.ParseEventOutcome(env.Status)
	if !ok {
		return Normalized{}, fmt.Errorf("%w: unknown status %q", errMalformed, env.Status)
	}
	return Normalized{
		JobID:        firstNonEmpty(env.ProjectID, env.ID),
		Outcome:      outcome,
		ResultURL:    firstNonEmpty(env.DownloadURL, env.DirectURL, env.MediaURL),
		ErrorMessage: env.Error,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
