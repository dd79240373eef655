package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

// Error taxonomy; the router maps these onto HTTP statuses.
var (
	ErrUnknownTool  = errors.New("webhook: unknown tool")
	ErrUnauthorized = errors.New("webhook: unauthorized")
	ErrBadRequest   = errors.New("webhook: bad request")
)

const (
	defaultMaxBody   = 1 << 20
	defaultQueueSize = 256
	defaultWorkers   = 4
)

// Result is the transport-agnostic ingest outcome.
type Result struct {
	Status  int
	Payload any
	// Header carries response headers the provider requires, e.g. the Asana
	// handshake echo.
	Header map[string]string
}

// IntentProcessor is the slice of the dispatcher event processing needs.
type IntentProcessor interface {
	ProcessIntent(ctx context.Context, intent *core.TaskIntent) *core.Result
}

// Service ingests provider webhooks: verify, persist, acknowledge fast, then
// process asynchronously. The provider sees a 2xx as soon as the event is
// durably pending; dispatch outcomes land on the stored event.
type Service struct {
	verifiers  map[string]Verifier
	events     EventRepository
	subs       SubscriptionRepository
	dispatcher IntentProcessor
	maxBody    int64

	queue   chan core.ID
	baseCtx context.Context
	wg      sync.WaitGroup
	once    sync.Once
}

type ServiceOption func(*Service)

func WithMaxBody(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func NewService(verifiers map[string]Verifier, events EventRepository, subs SubscriptionRepository, dispatcher IntentProcessor, opts ...ServiceOption) *Service {
	s := &Service{
		verifiers:  verifiers,
		events:     events,
		subs:       subs,
		dispatcher: dispatcher,
		maxBody:    defaultMaxBody,
		queue:      make(chan core.ID, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background consumers and replays events left pending by
// a previous run.
func (s *Service) Start(ctx context.Context) {
	s.baseCtx = ctx
	for i := 0; i < defaultWorkers; i++ {
		s.wg.Add(1)
		go s.consume()
	}
	s.replayPending(ctx)
}

// Stop drains the queue and waits for in-flight processing.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

// Process runs the ingest pipeline for one provider request.
func (s *Service) Process(ctx context.Context, tool string, r *http.Request) (Result, error) {
	log := logger.FromContext(ctx).With("component", "webhook", "tool", tool)
	verifier, ok := s.verifiers[tool]
	if !ok {
		return Result{Status: http.StatusNotFound}, ErrUnknownTool
	}

	// Asana's handshake arrives before any signed traffic: echo the secret
	// back and skip verification for this one request.
	if tool == "asana" {
		if secret := r.Header.Get("X-Hook-Secret"); secret != "" {
			log.Info("asana handshake completed")
			return Result{
				Status: http.StatusOK,
				Header: map[string]string{"X-Hook-Secret": secret},
			}, nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		log.Warn("reading webhook body failed", "error", err)
		return Result{Status: http.StatusBadRequest}, ErrBadRequest
	}
	if err := verifier.Verify(ctx, r, body); err != nil {
		log.Warn("signature verification failed", "error", err)
		return Result{Status: http.StatusUnauthorized}, ErrUnauthorized
	}

	doc := gjson.ParseBytes(body)
	if tool == "slack" && doc.Get("type").String() == "url_verification" {
		return Result{
			Status:  http.StatusOK,
			Payload: map[string]string{"challenge": doc.Get("challenge").String()},
		}, nil
	}

	event, err := s.extractEvent(tool, doc)
	if err != nil {
		log.Warn("unparseable webhook payload", "error", err)
		return Result{Status: http.StatusBadRequest}, ErrBadRequest
	}
	stored, err := s.events.Insert(ctx, event)
	if err != nil {
		log.Error("persisting webhook event failed", "error", err)
		return Result{Status: http.StatusInternalServerError}, err
	}
	s.enqueue(stored.ID)
	log.Info("webhook event accepted", "event_id", stored.ID, "event_type", stored.EventType)
	return Result{
		Status:  http.StatusAccepted,
		Payload: map[string]any{"status": "accepted", "eventId": stored.ID.String()},
	}, nil
}

func (s *Service) enqueue(id core.ID) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case s.queue <- id:
	default:
		// Queue full: the event is already durable, the replay path picks it
		// up on the next start.
		logger.FromContext(ctx).Warn("webhook queue full, deferring event", "event_id", id)
	}
}

// extractEvent normalizes one provider payload into a stored event.
func (s *Service) extractEvent(tool string, doc gjson.Result) (*Event, error) {
	var payload map[string]any
	_ = json.Unmarshal([]byte(doc.Raw), &payload)
	ev := &Event{Tool: tool, Payload: payload, Status: EventPending}
	switch tool {
	case "slack":
		if doc.Get("type").String() != "event_callback" {
			return nil, errors.New("unsupported Slack envelope type")
		}
		ev.EventType = doc.Get("event.type").String()
		ev.ResourceID = doc.Get("event.channel").String()
		if ev.ResourceID == "" {
			ev.ResourceID = doc.Get("event.item.channel").String()
		}
	case "asana":
		first := doc.Get("events.0")
		if !first.Exists() {
			return nil, errors.New("empty Asana event batch")
		}
		ev.EventType = first.Get("action").String()
		ev.ResourceID = first.Get("resource.gid").String()
	case "gmail":
		data := doc.Get("message.data").String()
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, errors.New("invalid Pub/Sub message data")
		}
		inner := gjson.ParseBytes(decoded)
		ev.EventType = "mailbox_change"
		ev.ResourceID = inner.Get("emailAddress").String()
	default:
		return nil, ErrUnknownTool
	}
	if ev.EventType == "" || ev.ResourceID == "" {
		return nil, errors.New("payload missing event type or resource")
	}
	return ev, nil
}

func (s *Service) consume() {
	defer s.wg.Done()
	for id := range s.queue {
		s.processOne(s.baseCtx, id)
	}
}

func (s *Service) processOne(ctx context.Context, id core.ID) {
	log := logger.FromContext(ctx).With("component", "webhook", "event_id", id)
	event, err := s.events.Get(ctx, id)
	if err != nil {
		log.Error("loading event failed", "error", err)
		return
	}
	if event.Status != EventPending {
		return
	}
	sub, err := s.subs.GetByResource(ctx, event.Tool, event.ResourceID)
	if err != nil {
		// No subscriber is a normal outcome for shared resources; the event
		// is done, not failed.
		if errors.Is(err, ErrNotFound) {
			_ = s.events.MarkProcessed(ctx, event.ID, time.Now())
			return
		}
		log.Error("resolving subscription failed", "error", err)
		_ = s.events.MarkFailed(ctx, event.ID, err.Error(), time.Now())
		return
	}
	res := s.dispatcher.ProcessIntent(ctx, s.intentFor(sub, event))
	if res.Success {
		_ = s.events.MarkProcessed(ctx, event.ID, time.Now())
		log.Info("webhook event processed", "tool", event.Tool, "event_type", event.EventType)
		return
	}
	msg := res.Message
	if res.Error != nil {
		msg = res.Error.Message
	}
	_ = s.events.MarkFailed(ctx, event.ID, msg, time.Now())
	log.Warn("webhook event dispatch failed", "reason", msg)
}

// intentFor maps a provider notification onto the read intent that pulls the
// changed data for the subscribed agent.
func (s *Service) intentFor(sub *Subscription, ev *Event) *core.TaskIntent {
	intent := &core.TaskIntent{
		AgentID: sub.AgentID,
		UserID:  sub.UserID,
		Tool:    sub.Tool,
	}
	switch sub.Tool {
	case "slack":
		intent.Intent = "fetch_messages"
		intent.Context = map[string]any{"channel": ev.ResourceID, "limit": 5}
	case "gmail":
		intent.Intent = "list_messages"
		intent.Context = map[string]any{"limit": 10}
	case "asana":
		intent.Intent = "get_task"
		intent.Context = map[string]any{"taskId": ev.ResourceID}
	}
	return intent
}

func (s *Service) replayPending(ctx context.Context) {
	pending, err := s.events.ListPending(ctx, defaultQueueSize)
	if err != nil {
		logger.FromContext(ctx).Error("listing pending webhook events failed", "error", err)
		return
	}
	for _, ev := range pending {
		s.enqueue(ev.ID)
	}
	if len(pending) > 0 {
		logger.FromContext(ctx).Info("replaying pending webhook events", "count", len(pending))
	}
}
