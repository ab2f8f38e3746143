package bootstrap

import (
	"call-assistant/internal/config"
	"call-assistant/internal/observability"
	"call-assistant/internal/store"
	"context"
	"fmt"

	"call-assistant/internal/clients/deepgram"
	"call-assistant/internal/clients/fcm"
	"call-assistant/internal/clients/googleai"
	kafkaClient "call-assistant/internal/clients/kafka"
	"call-assistant/internal/clients/openai"
	redisClient "call-assistant/internal/clients/redis"
	twilioClient "call-assistant/internal/clients/twilio"
	"call-assistant/internal/dialogue"
	"call-assistant/internal/events"
	"call-assistant/internal/voicecall/emergency"
	voiceCallHandler "call-assistant/internal/voicecall/handler"
	voiceCallProcessor "call-assistant/internal/voicecall/processor"
	"call-assistant/internal/voicecall/session"
	"call-assistant/internal/voicecall/speech"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store  store.Store
	Logger *observability.Logger

	// Handlers
	VoiceCallHandler voiceCallHandler.Handler

	// Live call sessions
	Sessions *session.Manager

	// Clients (for cleanup)
	KafkaProducer *kafkaClient.Producer
	Redis         *redisClient.Client
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Initialize database store
	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.Migrate {
		if err := deps.Store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Initialize account cache
	deps.Redis, err = redisClient.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	// Initialize call event stream. Without brokers events are only logged.
	var producer events.EventProducer
	if brokers := kafkaClient.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		deps.KafkaProducer = kafkaClient.NewProducer(kafkaClient.ProducerConfig{
			Brokers: brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		producer = deps.KafkaProducer
	} else {
		logger.Info(ctx, "KAFKA_BROKERS not set, call events will not be published")
	}
	publisher := events.NewPublisher(producer, logger)

	// Initialize speech clients
	openAIClient, err := openai.NewClient(cfg.Speech.OpenAIAPIKey, cfg.Speech.TranslationModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	recognizer := session.DeepgramRecognizer{
		Client: deepgram.NewSTTClient(deepgram.STTConfig{
			APIKey: cfg.Speech.DeepgramAPIKey,
			Model:  cfg.Speech.RecognizerModel,
		}, logger),
	}

	var synthesizer speech.Synthesizer
	switch cfg.Speech.SynthesisEngine {
	case "openai":
		synthesizer = openAIClient
	case "deepgram":
		synthesizer = deepgram.NewTTSClient(cfg.Speech.DeepgramAPIKey)
	default:
		return nil, fmt.Errorf("unsupported synthesis engine %q", cfg.Speech.SynthesisEngine)
	}

	// Initialize dialogue backend
	var generator dialogue.Generator
	switch cfg.Dialogue.Provider {
	case "gemini":
		generator, err = googleai.NewDialogueClient(ctx, cfg.Dialogue.GeminiAPIKey, cfg.Dialogue.GeminiModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini dialogue client: %w", err)
		}
	default:
		generator = dialogue.NewHTTPClient(cfg.Dialogue.URL)
	}

	// Initialize push alerts. Emergencies are still acknowledged without them.
	var alerts session.AlertSender
	if cfg.Alerts.FirebaseProjectID != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.Alerts.FirebaseProjectID, cfg.Alerts.FirebaseCredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fcm client: %w", err)
		}
		alerts = fcmClient
	} else {
		logger.Warn(ctx, "FIREBASE_PROJECT_ID not set, emergency alerts are disabled")
	}

	twilio := twilioClient.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, logger)
	if !twilio.ValidatesRequests() {
		logger.Warn(ctx, "TWILIO_AUTH_TOKEN not set, webhook signatures are not validated")
	}

	// Initialize voice call processor
	voiceCallProc := voiceCallProcessor.New(&deps.Store, deps.Redis, publisher, cfg.Redis.TTL, logger)

	// Initialize call session manager
	policy, err := session.ParseQueuePolicy(cfg.Session.QueuePolicy)
	if err != nil {
		return nil, err
	}
	sessionCfg := session.DefaultConfig()
	sessionCfg.SilenceWindow = cfg.Session.SilenceWindow
	sessionCfg.MinConfidence = cfg.Session.MinConfidence
	sessionCfg.Cooldown = cfg.Session.Cooldown
	sessionCfg.GreetingDelay = cfg.Session.GreetingDelay
	sessionCfg.HangupGrace = cfg.Session.HangupGrace
	sessionCfg.ExternalCallTimeout = cfg.Session.ExternalCallTimeout
	sessionCfg.QueuePolicy = policy

	deps.Sessions = session.NewManager(session.Dependencies{
		Recognizer:  recognizer,
		Dialogue:    generator,
		Translator:  openAIClient,
		Synthesizer: synthesizer,
		Alerts:      alerts,
		Store:       &deps.Store,
		Accounts:    voiceCallProc,
		Events:      publisher,
		Calls:       twilio,
		Detector:    emergency.NewDetector(emergency.DefaultKeywords),
	}, sessionCfg, logger)

	deps.VoiceCallHandler = voiceCallHandler.New(voiceCallProc, deps.Sessions, twilio, cfg.Server.PublicHost, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.KafkaProducer != nil {
		d.KafkaProducer.Close()
	}
	if err := d.Redis.Close(); err != nil {
		d.Logger.Error(context.Background(), "failed to close redis", err)
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.Error(context.Background(), "failed to close database", err)
	}
}
