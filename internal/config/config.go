package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Backend REST API hosting interview metadata, questions and analysis.
	BackendBaseURL string

	// Realtime speech services (duplex WebSocket endpoints).
	TranscribeWSURL string
	SpeechWSURL     string

	// Voice options sent with every synthesis request.
	SynthVoice    string
	SynthLanguage string
	SynthSpeed    float64

	// TTSBackend selects the synthesizer: "gateway" (speech WS) or "deepgram".
	TTSBackend       string
	DeepgramKey      string
	DeepgramTTSModel string

	// WebRTC signaling.
	ICEServersJSON  string
	RTCAuthPassword string

	// Turn-taking tuning.
	SilenceWindowMs int
	QuestionSeconds int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	backendURL := os.Getenv("BACKEND_BASE_URL")
	if backendURL == "" {
		backendURL = "http://localhost:5000"
	}

	transcribeURL := os.Getenv("TRANSCRIBE_WS_URL")
	if transcribeURL == "" {
		transcribeURL = "ws://localhost:5000/ws/transcribe"
	}

	speechURL := os.Getenv("SPEECH_WS_URL")
	if speechURL == "" {
		speechURL = "ws://localhost:5000/ws/speech"
	}

	voice := os.Getenv("SYNTH_VOICE")
	if voice == "" {
		voice = "lily"
	}
	language := os.Getenv("SYNTH_LANGUAGE")
	if language == "" {
		language = "en"
	}
	speed := envFloat("SYNTH_SPEED", 1.0)

	ttsBackend := os.Getenv("TTS_BACKEND")
	if ttsBackend == "" {
		ttsBackend = "gateway"
	}
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if ttsBackend == "deepgram" && deepgramKey == "" {
		log.Println("Warning: TTS_BACKEND=deepgram but DEEPGRAM_API_KEY not set - synthesis will not work")
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")

	iceServers := os.Getenv("ICE_SERVERS_JSON")
	if iceServers == "" {
		iceServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	}

	log.Printf("config: HTTP_ADDRESS=%s BACKEND_BASE_URL=%s TTS_BACKEND=%s", addr, backendURL, ttsBackend)
	return Config{
		HTTPAddress:      addr,
		BackendBaseURL:   backendURL,
		TranscribeWSURL:  transcribeURL,
		SpeechWSURL:      speechURL,
		SynthVoice:       voice,
		SynthLanguage:    language,
		SynthSpeed:       speed,
		TTSBackend:       ttsBackend,
		DeepgramKey:      deepgramKey,
		DeepgramTTSModel: deepgramModel,
		ICEServersJSON:   iceServers,
		RTCAuthPassword:  os.Getenv("RTC_AUTH_PASSWORD"),
		SilenceWindowMs:  envInt("SILENCE_WINDOW_MS", 2000),
		QuestionSeconds:  envInt("QUESTION_SECONDS", 120),
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		log.Printf("Warning: invalid %s=%q, using %g", key, raw, def)
		return def
	}
	return v
}
