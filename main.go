package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/replk8/voice-agent/config"
	"github.com/replk8/voice-agent/events"
	"github.com/replk8/voice-agent/handlers"
	"github.com/replk8/voice-agent/logger"
	"github.com/replk8/voice-agent/metrics"
	"github.com/replk8/voice-agent/services"
	"github.com/replk8/voice-agent/store"
)

const (
	mediaMaxAge        = time.Hour
	mediaPruneInterval = 10 * time.Minute
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		// Using standard log before logger is initialized
		println("Warning: .env file not found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		println("Failed to load configuration: " + err.Error())
		os.Exit(1)
	}

	// Parse command-line flags
	port := flag.String("port", cfg.Port, "server port")
	console := flag.Bool("console", cfg.LogConsole, "human readable log output")
	flag.Parse()
	cfg.Port = *port

	logger.Initialize(logger.ParseLevel(cfg.LogLevel), *console)
	log := logger.GetDefaultLogger()
	log.Info("Starting Replk8 AI Voice Agent...")
	log.Info("Log level set to %s", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	m := metrics.New()

	log.Info("Initializing stores...")
	calls, conversations, closeRedis := initStateStores(ctx, cfg, log)
	defer closeRedis()
	customers, closePostgres := initCustomerStore(ctx, cfg, log)
	defer closePostgres()

	log.Info("Initializing Telnyx service...")
	telnyx, err := services.NewTelnyxService(cfg, m)
	if err != nil {
		log.Error("Failed to create Telnyx client: %v", err)
		os.Exit(1)
	}

	log.Info("Initializing Deepgram service...")
	deepgram, err := services.NewDeepgramService(cfg, m)
	if err != nil {
		log.Error("Failed to create Deepgram client: %v", err)
		os.Exit(1)
	}

	log.Info("Initializing OpenAI service...")
	openAI, err := services.NewOpenAIService(cfg, conversations, m)
	if err != nil {
		log.Error("Failed to create OpenAI client: %v", err)
		os.Exit(1)
	}

	var gemini *services.GeminiService
	if cfg.GeminiAPIKey != "" {
		log.Info("Initializing Gemini service...")
		gemini, err = services.NewGeminiService(ctx, cfg, m)
		if err != nil {
			log.Error("Failed to create Gemini client: %v", err)
			os.Exit(1)
		}
		defer gemini.Close()
		openAI.SetFallback(gemini)
	}

	log.Info("Initializing Text-to-Speech service...")
	mediaFs, err := mediaFilesystem(cfg.MediaDir)
	if err != nil {
		log.Error("Failed to prepare media directory %s: %v", cfg.MediaDir, err)
		os.Exit(1)
	}
	media := services.NewMediaStore(mediaFs, cfg.PublicBaseURL)

	pollySynth, err := services.NewPollySynthesizer(ctx, cfg)
	if err != nil {
		log.Error("Failed to create Polly client: %v", err)
		os.Exit(1)
	}

	// Leave the interfaces nil rather than holding typed nil pointers.
	var elevenLabs, google services.Synthesizer
	if el := services.NewElevenLabsSynthesizer(cfg); el != nil {
		elevenLabs = el
	}
	if cfg.GoogleTTSEnabled {
		g, err := services.NewGoogleSynthesizer(ctx)
		if err != nil {
			log.Error("Failed to create Google Text-to-Speech client: %v", err)
			os.Exit(1)
		}
		defer g.Close()
		google = g
	}
	tts := services.NewTextToSpeechService(pollySynth, elevenLabs, google, media, m)

	log.Info("Initializing Customer service...")
	customerService := services.NewCustomerService(customers)

	var notifier services.AppointmentNotifier
	sms := services.NewSMSNotifier(cfg, m)
	if sms != nil {
		log.Info("Appointment SMS enabled")
		notifier = sms
	}

	log.Info("Initializing event publishers...")
	hub := events.NewHub()
	publishers := []events.Publisher{hub}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Error("Failed to connect to RabbitMQ: %v", err)
			os.Exit(1)
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
	}

	callFlow := services.NewCallFlow(services.CallFlowDeps{
		Calls:     calls,
		Telnyx:    telnyx,
		STT:       deepgram,
		LLM:       openAI,
		TTS:       tts,
		Customers: customerService,
		Notifier:  notifier,
		Events:    events.NewFanout(publishers...),
		Metrics:   m,
	}, services.CallFlowConfig{
		RecordingSilenceSecs: cfg.RecordingSilenceSecs,
		RecordingMaxSecs:     cfg.RecordingMaxSecs,
		UseVendorTTS:         cfg.UseVendorTTS,
	})

	// Create service container
	log.Info("Creating service container...")
	serviceContainer := &services.ServiceContainer{
		Config:       cfg,
		Metrics:      m,
		Calls:        calls,
		Telnyx:       telnyx,
		Deepgram:     deepgram,
		OpenAI:       openAI,
		Gemini:       gemini,
		TextToSpeech: tts,
		Media:        media,
		Customers:    customerService,
		Notifier:     sms,
		CallFlow:     callFlow,
		Hub:          hub,
	}

	// Setup HTTP handlers
	log.Info("Setting up HTTP handlers...")
	if cfg.AdminAPIToken == "" {
		log.Warn("ADMIN_API_TOKEN not set, admin endpoints disabled")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(serviceContainer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go pruneMedia(pruneCtx, media, log)

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down...")

	// Create a deadline for server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
	}
	if err := callFlow.Wait(shutdownCtx); err != nil {
		log.Error("Background call work did not finish: %v", err)
	}

	log.Info("Server exited properly")
}

// initStateStores picks Redis when REDIS_URL is set so several instances
// can share call state, and process memory otherwise.
func initStateStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.CallStateStore, store.ConversationStore, func()) {
	if cfg.RedisURL == "" {
		log.Info("Using in-memory call state")
		return store.NewMemoryCallStateStore(), store.NewMemoryConversationStore(), func() {}
	}

	client, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Info("Using Redis call state")
	return store.NewRedisCallStateStore(client), store.NewRedisConversationStore(client), func() { _ = client.Close() }
}

// initCustomerStore uses Postgres when DATABASE_URL is set and seeds the
// demo customers into whichever store is chosen.
func initCustomerStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.CustomerStore, func()) {
	if cfg.DatabaseURL == "" {
		log.Info("Using in-memory customer profiles")
		return store.NewMemoryCustomerStore(store.DemoCustomers()...), func() {}
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to Postgres: %v", err)
		os.Exit(1)
	}
	customers := store.NewPostgresCustomerStore(pool)
	if err := customers.EnsureSchema(ctx); err != nil {
		log.Error("Failed to prepare customers table: %v", err)
		os.Exit(1)
	}
	for _, demo := range store.DemoCustomers() {
		if _, err := customers.Get(ctx, demo.PhoneNumber); errors.Is(err, store.ErrNotFound) {
			if err := customers.Save(ctx, &demo); err != nil {
				log.Warn("Could not seed customer %s: %v", demo.PhoneNumber, err)
			}
		}
	}
	log.Info("Using Postgres customer profiles")
	return customers, pool.Close
}

func mediaFilesystem(dir string) (afero.Fs, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(osFs, dir), nil
}

// pruneMedia removes synthesized audio once Telnyx has had time to fetch it.
func pruneMedia(ctx context.Context, media *services.MediaStore, log *logger.Logger) {
	ticker := time.NewTicker(mediaPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := media.Prune(mediaMaxAge)
			if err != nil {
				log.Warn("Media prune failed: %v", err)
				continue
			}
			if n > 0 {
				log.Debug("Pruned %d media files", n)
			}
		}
	}
}
