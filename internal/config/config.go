package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr   string
	AppEnv string

	DBDriver string
	DBDSN    string

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// rooms
	RoomCodeCollision string
	RoomIdleTimeout   time.Duration

	// blob storage
	StorageDriver   string
	UploadDir       string
	UploadPublicURL string
	R2Endpoint      string
	R2AccessKeyID   string
	R2SecretKey     string
	R2Bucket        string
	R2PublicURL     string
}

// Load reads the environment, after merging an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	driver := strings.ToLower(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "postgres"
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && driver == "sqlite" {
		dsn = "file:cinechat.db"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	var idle time.Duration
	if v := os.Getenv("ROOM_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			idle = d
		}
	}

	return Config{
		Addr:   getenv("APP_ADDR", ":8080"),
		AppEnv: getenv("APP_ENV", "production"),

		DBDriver: driver,
		DBDSN:    dsn,

		JWTSecret: os.Getenv("JWT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisChannel:  getenv("REDIS_CHANNEL", "general-chat"),

		RoomCodeCollision: strings.ToLower(getenv("ROOM_CODE_COLLISION", "overwrite")),
		RoomIdleTimeout:   idle,

		StorageDriver:   strings.ToLower(getenv("STORAGE_DRIVER", "disk")),
		UploadDir:       getenv("UPLOAD_DIR", "./data"),
		UploadPublicURL: os.Getenv("UPLOAD_PUBLIC_URL"),
		R2Endpoint:      os.Getenv("R2_ENDPOINT"),
		R2AccessKeyID:   os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretKey:     os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Bucket:        getenv("R2_BUCKET_NAME", "chat-storage"),
		R2PublicURL:     os.Getenv("R2_PUBLIC_URL"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
