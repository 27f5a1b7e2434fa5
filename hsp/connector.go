package hsp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentnetio/agentnet/ham"
	"github.com/agentnetio/agentnet/internal/metrics"
	"github.com/agentnetio/agentnet/registry"
	"github.com/agentnetio/agentnet/resilience/circuitbreaker"
	"github.com/agentnetio/agentnet/resilience/retry"
	"github.com/agentnetio/agentnet/trust"
	"github.com/agentnetio/agentnet/types"
)

// Typed inbound handlers. Handlers registered on the same connector run
// sequentially per topic, in receipt order.
type (
	FactHandler        func(env *types.Envelope, fact *types.FactPayload)
	CapabilityHandler  func(env *types.Envelope, adv *types.CapabilityAdvertisement)
	TaskRequestHandler func(env *types.Envelope, req *types.TaskRequest)
	TaskResultHandler  func(env *types.Envelope, res *types.TaskResult)
	AckHandler         func(env *types.Envelope, ack *types.Acknowledgement)
)

// Config configures a Connector.
type Config struct {
	// AgentID is this node's identity on the bus. Required.
	AgentID string `yaml:"agent_id" json:"agent_id"`

	// AgentName is a human-readable label for logs and advertisements.
	AgentName string `yaml:"agent_name" json:"agent_name"`

	// AckTimeout bounds the wait for an acknowledgement on sends with
	// QoS.RequiresAck. Zero disables waiting.
	AckTimeout time.Duration `yaml:"ack_timeout" json:"ack_timeout"`

	// PublishRate caps outbound publishes per second. Zero or negative
	// means unlimited.
	PublishRate  float64 `yaml:"publish_rate" json:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst" json:"publish_burst"`

	// Retry and Breaker tune the resilience layer wrapped around every
	// outbound publish. Nil falls back to the package defaults.
	Retry   *retry.Policy          `yaml:"retry" json:"retry"`
	Breaker *circuitbreaker.Config `yaml:"breaker" json:"breaker"`
}

// DefaultConfig returns production connector settings.
func DefaultConfig() Config {
	return Config{
		AckTimeout:   10 * time.Second,
		PublishRate:  100,
		PublishBurst: 20,
	}
}

// Connector is an agent's endpoint on the HSP bus. It owns the typed
// callback registries, wraps every outbound publish in the resilience
// layer, and routes inbound envelopes to their handlers.
type Connector struct {
	cfg       Config
	transport Transport
	logger    *zap.Logger
	collector *metrics.Collector

	retryer retry.Retryer
	breaker *circuitbreaker.Breaker
	limiter *rate.Limiter

	handlerMu       sync.RWMutex
	factHandlers    []FactHandler
	capHandlers     []CapabilityHandler
	requestHandlers []TaskRequestHandler
	resultHandlers  []TaskResultHandler
	ackHandlers     []AckHandler

	ackMu       sync.Mutex
	pendingAcks map[string]chan *types.Acknowledgement

	// Optional collaborators fed by inbound traffic.
	registry *registry.Registry
	trust    *trust.Manager
	memory   *ham.Store

	mu      sync.Mutex
	subs    []Subscription
	started bool
}

// Option customises a Connector.
type Option func(*Connector)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(conn *Connector) { conn.collector = c }
}

// NewConnector builds a Connector over the given transport.
func NewConnector(cfg Config, transport Transport, logger *zap.Logger, opts ...Option) (*Connector, error) {
	if cfg.AgentID == "" {
		return nil, types.NewError(types.ErrProtocol, "agent id is required")
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.DefaultConfig()
	}

	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}
	burst := cfg.PublishBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Connector{
		cfg:         cfg,
		transport:   transport,
		logger:      logger.With(zap.String("component", "hsp"), zap.String("agent_id", cfg.AgentID)),
		limiter:     rate.NewLimiter(limit, burst),
		pendingAcks: make(map[string]chan *types.Acknowledgement),
	}
	for _, opt := range opts {
		opt(c)
	}

	breakerCfg := *cfg.Breaker
	if c.collector != nil {
		prev := breakerCfg.OnStateChange
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			c.collector.SetBreakerState(int(to))
			if to == circuitbreaker.StateOpen {
				c.collector.RecordBreakerTrip()
			}
			if prev != nil {
				prev(from, to)
			}
		}
	}

	c.retryer = retry.NewRetryer(cfg.Retry, c.logger)
	c.breaker = circuitbreaker.NewBreaker(&breakerCfg, c.logger)
	return c, nil
}

// BindRegistry routes inbound capability advertisements into the registry.
// Must be called before Start.
func (c *Connector) BindRegistry(r *registry.Registry) { c.registry = r }

// BindTrust weights inbound fact confidence by the sender's trust score.
// Must be called before Start.
func (c *Connector) BindTrust(t *trust.Manager) { c.trust = t }

// BindMemory persists inbound facts into the memory store. Must be called
// before Start.
func (c *Connector) BindMemory(s *ham.Store) { c.memory = s }

// Start subscribes to the broadcast topics and this agent's unicast topics.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	topics := []string{
		TopicFacts,
		TopicCapabilities,
		RequestTopic(c.cfg.AgentID),
		ResultTopic(c.cfg.AgentID),
		AckTopic(c.cfg.AgentID),
	}
	for _, topic := range topics {
		sub, err := c.transport.Subscribe(ctx, topic, c.dispatch)
		if err != nil {
			for _, s := range c.subs {
				s.Close()
			}
			c.subs = nil
			return err
		}
		c.subs = append(c.subs, sub)
	}

	c.started = true
	c.logger.Info("connector started", zap.Strings("topics", topics))
	return nil
}

// Close tears down all subscriptions. The transport itself stays open; its
// owner closes it.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	var firstErr error
	for _, sub := range c.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.subs = nil
	c.logger.Info("connector closed")
	return firstErr
}

// BreakerState exposes the outbound breaker state for health reporting.
func (c *Connector) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// -----------------------------------------------------------------------------
// Handler registration
// -----------------------------------------------------------------------------

// SubscribeToFacts registers a handler for inbound facts.
func (c *Connector) SubscribeToFacts(h FactHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.factHandlers = append(c.factHandlers, h)
}

// SubscribeToCapabilityAdvertisements registers a handler for inbound
// capability advertisements.
func (c *Connector) SubscribeToCapabilityAdvertisements(h CapabilityHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.capHandlers = append(c.capHandlers, h)
}

// SubscribeToTaskRequests registers a handler for inbound task requests.
func (c *Connector) SubscribeToTaskRequests(h TaskRequestHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.requestHandlers = append(c.requestHandlers, h)
}

// SubscribeToTaskResults registers a handler for inbound task results.
func (c *Connector) SubscribeToTaskResults(h TaskResultHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.resultHandlers = append(c.resultHandlers, h)
}

// SubscribeToAcknowledgements registers a handler for inbound
// acknowledgements.
func (c *Connector) SubscribeToAcknowledgements(h AckHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.ackHandlers = append(c.ackHandlers, h)
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// PublishFact broadcasts a fact. An empty topic uses the shared facts topic.
// Returns the envelope id.
func (c *Connector) PublishFact(ctx context.Context, topic string, fact *types.FactPayload, qos types.QoSParameters) (string, error) {
	if topic == "" {
		topic = TopicFacts
	}
	if fact.SourceAgentID == "" {
		fact.SourceAgentID = c.cfg.AgentID
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}

	env, err := c.newEnvelope(types.MessageTypeFact, "", "", qos, fact)
	if err != nil {
		return "", err
	}
	if err := c.publish(ctx, topic, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// AdvertiseCapability broadcasts a capability advertisement. Returns the
// envelope id.
func (c *Connector) AdvertiseCapability(ctx context.Context, adv *types.CapabilityAdvertisement) (string, error) {
	if adv.AgentID == "" {
		adv.AgentID = c.cfg.AgentID
	}

	env, err := c.newEnvelope(types.MessageTypeCapabilityAdvertisement, "", "", types.QoSParameters{}, adv)
	if err != nil {
		return "", err
	}
	if err := c.publish(ctx, TopicCapabilities, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// SendTaskRequest sends a task request to a specific agent and returns the
// correlation id the eventual result will carry. The request is sent with
// QoS.RequiresAck; when AckTimeout is set, the call blocks until the
// recipient acknowledges receipt or the wait times out.
func (c *Connector) SendTaskRequest(ctx context.Context, recipientID string, req *types.TaskRequest) (string, error) {
	if recipientID == "" {
		return "", types.NewError(types.ErrProtocol, "task request requires a recipient")
	}
	if req.RequesterID == "" {
		req.RequesterID = c.cfg.AgentID
	}

	correlationID := uuid.NewString()
	qos := types.QoSParameters{RequiresAck: true, Priority: types.PriorityHigh}
	env, err := c.newEnvelope(types.MessageTypeTaskRequest, recipientID, correlationID, qos, req)
	if err != nil {
		return "", err
	}

	ackCh := c.registerAck(env.ID)
	defer c.unregisterAck(env.ID)

	if err := c.publish(ctx, RequestTopic(recipientID), env); err != nil {
		return "", err
	}
	if err := c.waitForAck(ctx, ackCh); err != nil {
		return "", err
	}
	return correlationID, nil
}

// SendTaskResult delivers a task result back to the requester, correlated
// with the originating request.
func (c *Connector) SendTaskResult(ctx context.Context, recipientID, correlationID string, res *types.TaskResult) error {
	if recipientID == "" {
		return types.NewError(types.ErrProtocol, "task result requires a recipient")
	}

	env, err := c.newEnvelope(types.MessageTypeTaskResult, recipientID, correlationID, types.QoSParameters{}, res)
	if err != nil {
		return err
	}
	return c.publish(ctx, ResultTopic(recipientID), env)
}

func (c *Connector) newEnvelope(mt types.MessageType, recipientID, correlationID string, qos types.QoSParameters, payload any) (*types.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrProtocol, "payload marshal failed").WithCause(err)
	}
	return &types.Envelope{
		ID:              uuid.NewString(),
		SenderID:        c.cfg.AgentID,
		RecipientID:     recipientID,
		Timestamp:       time.Now().UTC(),
		MessageType:     mt,
		ProtocolVersion: types.ProtocolVersion,
		CorrelationID:   correlationID,
		QoS:             qos,
		Payload:         raw,
	}, nil
}

// publish runs the outbound path: rate limit, then breaker wrapping retry
// wrapping the transport.
func (c *Connector) publish(ctx context.Context, topic string, env *types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.ErrProtocol, "envelope marshal failed").WithCause(err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return types.NewNetworkError("publish cancelled", err)
	}

	start := time.Now()
	err = c.breaker.Call(ctx, func() error {
		return c.retryer.Do(ctx, func() error {
			return c.transport.Publish(ctx, topic, data)
		})
	})
	if c.collector != nil && err == nil {
		c.collector.RecordPublish(string(env.MessageType), time.Since(start))
	}
	if err != nil {
		c.logger.Warn("publish failed",
			zap.String("topic", topic),
			zap.String("message_type", string(env.MessageType)),
			zap.Error(err))
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Acknowledgements
// -----------------------------------------------------------------------------

func (c *Connector) registerAck(messageID string) chan *types.Acknowledgement {
	ch := make(chan *types.Acknowledgement, 1)
	c.ackMu.Lock()
	c.pendingAcks[messageID] = ch
	c.ackMu.Unlock()
	return ch
}

func (c *Connector) unregisterAck(messageID string) {
	c.ackMu.Lock()
	delete(c.pendingAcks, messageID)
	c.ackMu.Unlock()
}

func (c *Connector) waitForAck(ctx context.Context, ch chan *types.Acknowledgement) error {
	if c.cfg.AckTimeout <= 0 {
		return nil
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return types.NewNetworkError("acknowledgement wait cancelled", ctx.Err())
	case <-timer.C:
		if c.collector != nil {
			c.collector.RecordAckTimeout()
		}
		return types.NewNetworkError("acknowledgement timeout", nil)
	case <-ch:
		return nil
	}
}

// sendAck replies to an envelope that asked for receipt confirmation.
func (c *Connector) sendAck(env *types.Envelope) {
	ack := &types.Acknowledgement{
		Status:          "received",
		TargetMessageID: env.ID,
		AckTimestamp:    time.Now().UTC(),
	}
	reply, err := c.newEnvelope(types.MessageTypeAcknowledgement, env.SenderID, env.CorrelationID, types.QoSParameters{}, ack)
	if err != nil {
		c.logger.Error("ack build failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publish(ctx, AckTopic(env.SenderID), reply); err != nil {
		c.logger.Warn("ack send failed", zap.String("target", env.ID), zap.Error(err))
	}
}

// -----------------------------------------------------------------------------
// Inbound dispatch
// -----------------------------------------------------------------------------

// dispatch is the single inbound entry point. It validates the envelope,
// filters by recipient, then fans out by message type. Malformed input never
// reaches a handler.
func (c *Connector) dispatch(topic string, raw []byte) {
	env, err := types.DecodeEnvelope(raw)
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	// Unicast envelopes for someone else can appear on shared topics.
	if !env.Broadcast() && env.RecipientID != c.cfg.AgentID {
		return
	}
	// Our own broadcasts come back on subscribed topics.
	if env.SenderID == c.cfg.AgentID {
		return
	}

	if c.collector != nil {
		c.collector.RecordReceive(string(env.MessageType))
	}

	switch env.MessageType {
	case types.MessageTypeFact:
		c.handleFact(topic, env)
	case types.MessageTypeCapabilityAdvertisement:
		c.handleCapability(topic, env)
	case types.MessageTypeTaskRequest:
		c.handleTaskRequest(topic, env)
	case types.MessageTypeTaskResult:
		c.handleTaskResult(topic, env)
	case types.MessageTypeAcknowledgement:
		c.handleAck(topic, env)
	}
}

func (c *Connector) handleFact(topic string, env *types.Envelope) {
	fact, err := env.FactPayload()
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	// Weight the asserted confidence by how much we trust the source.
	if c.trust != nil {
		score := c.trust.Score(fact.SourceAgentID)
		fact.Confidence = clamp01(fact.Confidence * score)
	}

	if c.memory != nil {
		if err := c.storeFact(fact); err != nil {
			c.logger.Error("fact store failed",
				zap.String("fact_id", fact.ID),
				zap.Error(err))
		}
	}

	c.handlerMu.RLock()
	handlers := c.factHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env, fact)
	}
	c.maybeAck(env)
}

func (c *Connector) storeFact(fact *types.FactPayload) error {
	raw, err := json.Marshal(fact)
	if err != nil {
		return types.NewStorageError("fact marshal failed", err)
	}
	importance := fact.Confidence
	_, err = c.memory.Store("hsp_fact", raw, ham.Metadata{
		Speaker:    fact.SourceAgentID,
		Importance: &importance,
		Tags:       fact.Tags,
	})
	return err
}

func (c *Connector) handleCapability(topic string, env *types.Envelope) {
	adv, err := env.CapabilityAdvertisementPayload()
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	if c.registry != nil {
		c.registry.HandleAdvertisement(adv)
	}
	if c.trust != nil {
		c.trust.EnsureDefault(adv.AgentID)
	}

	c.handlerMu.RLock()
	handlers := c.capHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env, adv)
	}
	c.maybeAck(env)
}

func (c *Connector) handleTaskRequest(topic string, env *types.Envelope) {
	req, err := env.TaskRequestPayload()
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	c.handlerMu.RLock()
	handlers := c.requestHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env, req)
	}
	c.maybeAck(env)
}

func (c *Connector) handleTaskResult(topic string, env *types.Envelope) {
	res, err := env.TaskResultPayload()
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	c.handlerMu.RLock()
	handlers := c.resultHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env, res)
	}
	c.maybeAck(env)
}

func (c *Connector) handleAck(topic string, env *types.Envelope) {
	ack, err := env.AcknowledgementPayload()
	if err != nil {
		c.protocolError(topic, err)
		return
	}

	c.ackMu.Lock()
	ch, ok := c.pendingAcks[ack.TargetMessageID]
	if ok {
		delete(c.pendingAcks, ack.TargetMessageID)
	}
	c.ackMu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}

	c.handlerMu.RLock()
	handlers := c.ackHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env, ack)
	}
}

// maybeAck confirms receipt when the sender asked for it.
func (c *Connector) maybeAck(env *types.Envelope) {
	if env.QoS.RequiresAck {
		c.sendAck(env)
	}
}

func (c *Connector) protocolError(topic string, err error) {
	if c.collector != nil {
		c.collector.RecordProtocolError()
	}
	c.logger.Warn("dropping malformed message",
		zap.String("topic", topic),
		zap.Error(err))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
