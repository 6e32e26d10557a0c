package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Identity provider tokens
	JWTSecret string

	// AWS S3
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	S3BucketName        string
	DocumentsBucketName string

	// Server
	Port   string
	AppEnv string

	// File Upload
	MaxFileSize       int64
	AllowedExtensions string

	// Logging
	LogLevel string
	LogFile  string

	// Synchronization
	PageSize           int
	ExportChunkSize    int
	SubstituteCacheTTL time.Duration
	ReconcileCron      string
	ExportArchiveCron  string

	// Feature Toggles
	UseRedisCache bool
	UseRedisFeed  bool
	SkipMigrate   bool
	SeedOnStart   bool
}

func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local"
}

// AllowedExtensionList splits ALLOWED_EXTENSIONS into its entries.
func (c *Config) AllowedExtensionList() []string {
	var out []string
	for _, ext := range strings.Split(c.AllowedExtensions, ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	basePath := getEnv("SSM_BASE_PATH", "/faltas")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "sa-east-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	getVal := func(key, def string) string {
		if useSSM {
			if v, ok := paramMap[strings.ToUpper(key)]; ok && v != "" {
				return v
			}
		}
		return getEnv(strings.ToUpper(key), def)
	}

	maxFileSize, err := strconv.ParseInt(getVal("MAX_FILE_SIZE", "10485760"), 10, 64)
	if err != nil {
		log.Fatal("Invalid MAX_FILE_SIZE format:", err)
	}

	pageSize, err := strconv.Atoi(getVal("PAGE_SIZE", "1000"))
	if err != nil || pageSize <= 0 {
		log.Fatal("Invalid PAGE_SIZE format:", err)
	}

	chunkSize, err := strconv.Atoi(getVal("EXPORT_CHUNK_SIZE", "2000"))
	if err != nil || chunkSize <= 0 {
		log.Fatal("Invalid EXPORT_CHUNK_SIZE format:", err)
	}

	cacheTTL, err := time.ParseDuration(getVal("SUBSTITUTE_CACHE_TTL", "5m"))
	if err != nil {
		log.Fatal("Invalid SUBSTITUTE_CACHE_TTL format:", err)
	}

	AppConfig = &Config{
		DBHost:     getVal("DB_HOST", "localhost"),
		DBPort:     getVal("DB_PORT", "3306"),
		DBUser:     getVal("DB_USER", "root"),
		DBPassword: getVal("DB_PASSWORD", ""),
		DBName:     getVal("DB_NAME", "faltas"),

		RedisHost:     getVal("REDIS_HOST", "localhost"),
		RedisPort:     getVal("REDIS_PORT", "6379"),
		RedisPassword: getVal("REDIS_PASSWORD", ""),

		JWTSecret: getVal("JWT_SECRET", "your_super_secret_jwt_key"),

		AWSRegion:           getVal("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:      getVal("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getVal("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:        getVal("S3_BUCKET_NAME", "faltas-exports"),
		DocumentsBucketName: getVal("DOCUMENTS_BUCKET_NAME", "teachers"),

		Port:   getVal("PORT", "3000"),
		AppEnv: getVal("APP_ENV", "development"),

		MaxFileSize:       maxFileSize,
		AllowedExtensions: getVal("ALLOWED_EXTENSIONS", "pdf,jpg,jpeg,png"),

		LogLevel: getVal("LOG_LEVEL", "info"),
		LogFile:  getVal("LOG_FILE", "logs/app.log"),

		PageSize:           pageSize,
		ExportChunkSize:    chunkSize,
		SubstituteCacheTTL: cacheTTL,
		ReconcileCron:      getVal("RECONCILE_CRON", "@every 15m"),
		ExportArchiveCron:  getVal("EXPORT_ARCHIVE_CRON", "0 3 * * *"),

		UseRedisCache: strings.ToLower(getVal("USE_REDIS_CACHE", "false")) == "true",
		UseRedisFeed:  strings.ToLower(getVal("USE_REDIS_FEED", "false")) == "true",
		SkipMigrate:   strings.ToLower(getVal("SKIP_MIGRATE", "false")) == "true",
		SeedOnStart:   strings.ToLower(getVal("SEED_ON_START", "false")) == "true",
	}

	validateConfig(AppConfig, useSSM)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fetchSSMParameters reads all parameters under prefix and returns map with UPPERCASE keys.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	next := aws.String("")
	for {
		in := &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
		}
		if *next != "" {
			in.NextToken = next
		}
		resp, err := client.GetParametersByPath(in)
		if err != nil {
			log.Printf("Warning: unable to fetch SSM parameters for prefix %s: %v", prefix, err)
			break
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			name := *p.Name
			key := name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				key = name[idx+1:]
			}
			if key == "" {
				continue
			}
			out[strings.ToUpper(key)] = *p.Value
		}
		if resp.NextToken == nil || *resp.NextToken == "" {
			break
		}
		next = resp.NextToken
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			log.Fatalf("Missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
