package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL        string  `yaml:"base_url"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RateLimit      float64 `yaml:"rate_limit"`
		MaxInFlight    int     `yaml:"max_in_flight"`
	} `yaml:"llm"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Chunker struct {
		MaxChunkSize int `yaml:"max_chunk_size"`
		MinChunkSize int `yaml:"min_chunk_size"`
	} `yaml:"chunker"`

	Retrieval struct {
		TopK                int     `yaml:"top_k"`
		SimilarityThreshold float32 `yaml:"similarity_threshold"`
	} `yaml:"retrieval"`

	Chat struct {
		HistoryWindow int    `yaml:"history_window"`
		GateModel     string `yaml:"gate_model"`
		RewriteModel  string `yaml:"rewrite_model"`
	} `yaml:"chat"`

	Logging struct {
		Debug bool `yaml:"debug"`
	} `yaml:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/briefcase/config.yaml"),
			"/etc/briefcase/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "nomic-embed-text:latest"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.TimeoutSeconds == 0 {
		config.LLM.TimeoutSeconds = 60
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 5.0
	}
	if config.LLM.MaxInFlight == 0 {
		config.LLM.MaxInFlight = 4
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Chunker.MaxChunkSize == 0 {
		config.Chunker.MaxChunkSize = 4000
	}
	if config.Chunker.MinChunkSize == 0 {
		config.Chunker.MinChunkSize = 50
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.SimilarityThreshold == 0 {
		config.Retrieval.SimilarityThreshold = 0.7
	}

	if config.Chat.HistoryWindow == 0 {
		config.Chat.HistoryWindow = 10
	}
	if config.Chat.GateModel == "" {
		config.Chat.GateModel = config.LLM.Model
	}
	if config.Chat.RewriteModel == "" {
		config.Chat.RewriteModel = config.LLM.Model
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}
