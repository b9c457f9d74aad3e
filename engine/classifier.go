package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"coldreach/models"
)

// ReplyClassification is the structured outcome the external classifier
// returns for one inbound reply.
type ReplyClassification struct {
	Classification     string   `json:"classification"` // positive, not_now, price_objection, competitor, angry, unsubscribe, out_of_office, question, unknown
	Sentiment          string   `json:"sentiment"`
	BuyingSignals      []string `json:"buying_signals"`
	SuggestedResponses []string `json:"suggested_responses"`
}

// ReplyInput is what the classifier sees of an inbound reply.
type ReplyInput struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	FromEmail    string `json:"from_email"`
	PriorContext string `json:"prior_context,omitempty"`
}

// Classifier maps a free-text reply to a classification label. The real
// model runs in an external service; a keyword fallback keeps the pipeline
// working when no endpoint is configured.
type Classifier interface {
	Classify(input ReplyInput) (*ReplyClassification, error)
}

// labelTriggers is the fixed table from classification label to automation
// trigger. Labels absent from the table (unsubscribe, out_of_office,
// question, unknown) intentionally fire no automation.
var labelTriggers = map[string]string{
	"positive":        models.TriggerReplyPositive,
	"not_now":         models.TriggerReplyNotNow,
	"price_objection": models.TriggerReplyPrice,
	"competitor":      models.TriggerReplyCompetitor,
	"angry":           models.TriggerReplyAngry,
}

// TriggerForLabel resolves a classification label to its automation trigger.
func TriggerForLabel(label string) (string, bool) {
	trigger, ok := labelTriggers[label]
	return trigger, ok
}

// HandleClassifiedReply records the classification on the reply row and fires
// the matching automation trigger, if any.
func (e *Engine) HandleClassifiedReply(reply *models.InboundReply, cls *ReplyClassification) error {
	now := time.Now()
	reply.Classification = cls.Classification
	reply.Sentiment = cls.Sentiment
	reply.BuyingSignals = cls.BuyingSignals
	reply.SuggestedResponses = cls.SuggestedResponses
	reply.ProcessedAt = &now
	if err := e.db.Save(reply).Error; err != nil {
		return err
	}

	trigger, ok := TriggerForLabel(cls.Classification)
	if !ok {
		e.log.WithField("classification", cls.Classification).Debug("no automation trigger for label")
		return nil
	}
	return e.ExecuteForTrigger(reply.UserID, trigger, reply.ContactID, TriggerContext{
		ReplyID:  &reply.ID,
		Metadata: map[string]string{"classification": cls.Classification},
	})
}

// HTTPClassifier calls the external classification service. With no endpoint
// configured it falls back to keyword matching.
type HTTPClassifier struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPClassifier(endpoint, apiKey string) *HTTPClassifier {
	return &HTTPClassifier{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (hc *HTTPClassifier) Classify(input ReplyInput) (*ReplyClassification, error) {
	if hc.Endpoint == "" {
		return keywordClassify(input), nil
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, hc.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if hc.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+hc.APIKey)
	}

	resp, err := hc.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}
	var cls ReplyClassification
	if err := json.NewDecoder(resp.Body).Decode(&cls); err != nil {
		return nil, err
	}
	if cls.Classification == "" {
		cls.Classification = "unknown"
	}
	return &cls, nil
}

// keywordClassify is a crude stand-in for the external model, good enough
// for development and for degraded operation.
func keywordClassify(input ReplyInput) *ReplyClassification {
	body := strings.ToLower(input.Subject + " " + input.Body)

	switch {
	case containsAny(body, "unsubscribe", "remove me", "opt out"):
		return &ReplyClassification{Classification: "unsubscribe", Sentiment: "negative"}
	case containsAny(body, "out of office", "on vacation", "annual leave"):
		return &ReplyClassification{Classification: "out_of_office", Sentiment: "neutral"}
	case containsAny(body, "stop emailing", "leave me alone", "spam"):
		return &ReplyClassification{Classification: "angry", Sentiment: "negative"}
	case containsAny(body, "too expensive", "pricing", "price", "budget"):
		return &ReplyClassification{Classification: "price_objection", Sentiment: "neutral"}
	case containsAny(body, "already use", "we use", "competitor", "switched to"):
		return &ReplyClassification{Classification: "competitor", Sentiment: "neutral"}
	case containsAny(body, "not right now", "maybe later", "next quarter", "not a priority"):
		return &ReplyClassification{Classification: "not_now", Sentiment: "neutral"}
	case containsAny(body, "interested", "sounds good", "let's talk", "book a call", "tell me more"):
		return &ReplyClassification{Classification: "positive", Sentiment: "positive"}
	default:
		return &ReplyClassification{Classification: "unknown", Sentiment: "neutral"}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
