package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go-document-verifier/extraction"
	log "go-document-verifier/logging"
	redis "go-document-verifier/redis"
)

const defaultGeminiModel = "gemini-2.5-flash"
const defaultInferenceTimeoutSeconds = 60

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel string `json:"log_level,omitempty"`

	// Inference
	GeminiModel             string `json:"gemini_model,omitempty"`
	ExtractionVariant       string `json:"extraction_variant,omitempty"`
	InferenceTimeoutSeconds int    `json:"inference_timeout_seconds,omitempty"`

	// Signed extraction receipts; optional
	ReceiptPrivateKeyPath string `json:"receipt_private_key_path,omitempty"`
	IssuerId              string `json:"issuer_id,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		log.Error.Fatal("please provide a config path using the --config flag")
	}

	log.Info.Printf("using config: %v", *configPath)

	config, err := readConfigFile(*configPath)
	if err != nil {
		log.Error.Fatalf("failed to read config file: %v", err)
	}

	log.InitLogger(config.LogLevel)
	log.Info.Printf("hosting on: %v:%v", config.ServerConfig.Host, config.ServerConfig.Port)

	variant, err := extraction.ParseVariant(config.ExtractionVariant)
	if err != nil {
		log.Error.Fatalf("invalid extraction variant: %v", err)
	}
	log.Info.Printf("using extraction variant: %v", variant)

	model := config.GeminiModel
	if model == "" {
		model = defaultGeminiModel
	}

	timeoutSeconds := config.InferenceTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultInferenceTimeoutSeconds
	}

	// The API key is deliberately not validated here; a missing or invalid
	// key surfaces as an inference failure on the first attempt.
	apiKey := os.Getenv("GEMINI_API_KEY")
	inferenceClient := NewGeminiInferenceClient(apiKey, model, time.Duration(timeoutSeconds)*time.Second)

	tokenStorage, err := createTokenStorage(&config)
	if err != nil {
		log.Error.Fatalf("failed to instantiate token storage: %v", err)
	}

	var receiptCreator ReceiptCreator
	if config.ReceiptPrivateKeyPath != "" {
		creator, err := NewReceiptCreator(config.ReceiptPrivateKeyPath, config.IssuerId)
		if err != nil {
			log.Error.Fatalf("failed to instantiate receipt creator: %v", err)
		}
		receiptCreator = creator
	}

	serverState := ServerState{
		tokenStorage:   tokenStorage,
		sessions:       NewSessionStore(variant, inferenceClient),
		receiptCreator: receiptCreator,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		log.Error.Fatalf("failed to create server: %v", err)
	}

	err = server.ListenAndServe()
	if err != nil {
		log.Error.Fatalf("failed to listen and serve: %v", err)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createTokenStorage(config *Config) (TokenStorage, error) {
	if config.StorageType == "redis" {
		log.Info.Printf("Using redis token storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisTokenStorage(client, config.RedisConfig.Namespace), nil
	}
	if config.StorageType == "redis_sentinel" {
		log.Info.Printf("Using redis sentinal storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisTokenStorage(client, config.RedisSentinelConfig.Namespace), nil
	}
	if config.StorageType == "memory" {
		log.Info.Printf("Using in memory storage")
		return NewInMemoryTokenStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
