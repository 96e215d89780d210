package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	coremon "github.com/kilianp07/stockpulse/core/monitoring"
	"github.com/kilianp07/stockpulse/core/queue"
)

const (
	DefaultRequestTopic  = "stockpulse/requests"
	DefaultTransferTopic = "stockpulse/stores"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker        string          `json:"broker"`
	ClientID      string          `json:"client_id"`
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	RequestTopic  string          `json:"request_topic"`
	TransferTopic string          `json:"transfer_topic"`
	UseTLS        bool            `json:"use_tls"`
	ClientCert    string          `json:"client_cert"`
	ClientKey     string          `json:"client_key"`
	CABundle      string          `json:"ca_bundle"`
	AuthMethod    string          `json:"auth_method"`
	QoS           map[string]byte `json:"qos"`
	LWTTopic      string          `json:"lwt_topic"`
	LWTPayload    string          `json:"lwt_payload"`
	LWTQoS        byte            `json:"lwt_qos"`
	LWTRetain     bool            `json:"lwt_retain"`
	MaxRetries    int             `json:"max_retries"`
	BackoffMS     int             `json:"backoff_ms"`
	TLSConfig     *tls.Config     `json:"-"`
}

// SetDefaults fills in topic names and retry settings.
func (c *Config) SetDefaults() {
	if c.RequestTopic == "" {
		c.RequestTopic = DefaultRequestTopic
	}
	if c.TransferTopic == "" {
		c.TransferTopic = DefaultTransferTopic
	}
	if c.ClientID == "" {
		c.ClientID = "stockpulse"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// RequestHandler accepts allocation requests read from the broker.
type RequestHandler interface {
	SubmitAllocationRequest(ctx context.Context, req model.AllocationRequest) (queue.Kind, error)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient reads allocation requests from the request topic and publishes
// transfer notices to per-store topics.
type PahoClient struct {
	cli           pahoClient
	handler       RequestHandler
	requestTopic  string
	transferTopic string
	qos           map[string]byte
	logger        logger.Logger
	maxRetries    int
	backoff       time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the broker. When handler is non-nil the request
// topic is subscribed on every (re)connect.
func NewPahoClient(cfg Config, handler RequestHandler, log logger.Logger) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	pc := &PahoClient{
		handler:       handler,
		requestTopic:  cfg.RequestTopic,
		transferTopic: cfg.TransferTopic,
		qos:           cfg.QoS,
		logger:        log,
		maxRetries:    cfg.MaxRetries,
		backoff:       time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if pc.handler == nil {
			return
		}
		if token := c.Subscribe(pc.requestTopic, pc.qosFor("request"), pc.onRequest); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func (p *PahoClient) onRequest(_ paho.Client, msg paho.Message) {
	var req model.AllocationRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		p.logger.Errorf("failed to decode allocation request: %v", err)
		return
	}
	kind, err := p.handler.SubmitAllocationRequest(context.Background(), req)
	if err != nil {
		p.logger.Warnf("rejected allocation request from %s: %v", req.StoreID, err)
		return
	}
	p.logger.Debugw("request queued", map[string]any{"store_id": req.StoreID, "sku": req.SKU, "queue": string(kind)})
}

// TransferNotice is the payload sent to the receiving store.
type TransferNotice struct {
	TransferID  string    `json:"transfer_id"`
	RequestID   string    `json:"request_id"`
	FromStoreID string    `json:"from_store_id"`
	ToStoreID   string    `json:"to_store_id"`
	SKU         string    `json:"sku"`
	Quantity    int       `json:"quantity"`
	Priority    string    `json:"priority"`
	WarehouseID string    `json:"warehouse_id"`
	Timestamp   int64     `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

func noticeFor(t model.TransferRequest) TransferNotice {
	return TransferNotice{
		TransferID:  t.ID,
		RequestID:   t.RequestID,
		FromStoreID: t.FromStoreID,
		ToStoreID:   t.ToStoreID,
		SKU:         t.SKU,
		Quantity:    t.Quantity,
		Priority:    string(t.Priority),
		WarehouseID: t.Route.WarehouseID,
		Timestamp:   time.Now().UnixMilli(),
		CreatedAt:   t.CreatedAt,
	}
}

// TransferTopic returns the topic a store listens on for incoming transfers.
func (p *PahoClient) TransferTopic(storeID string) string {
	return fmt.Sprintf("%s/%s/transfers", p.transferTopic, storeID)
}

// PublishTransfer notifies the receiving store of a scheduled transfer,
// retrying with exponential backoff.
func (p *PahoClient) PublishTransfer(t model.TransferRequest) error {
	payload, err := json.Marshal(noticeFor(t))
	if err != nil {
		return err
	}
	topic := p.TransferTopic(t.ToStoreID)
	qos := p.qosFor("transfer")
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Infof("sent transfer %s to %s", t.ID, topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "store_id": t.ToStoreID})
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
