package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_DSN", "REDIS_ADDR", "ROOM_IDLE_TIMEOUT", "ROOM_CODE_COLLISION", "STORAGE_DRIVER"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Addr != ":8080" || cfg.DBDriver != "postgres" || cfg.DBDSN != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RoomCodeCollision != "overwrite" || cfg.RoomIdleTimeout != 0 || cfg.StorageDriver != "disk" {
		t.Fatalf("unexpected room/storage defaults %+v", cfg)
	}
	if cfg.RedisChannel != "general-chat" {
		t.Fatalf("unexpected redis channel %q", cfg.RedisChannel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ROOM_IDLE_TIMEOUT", "90s")
	t.Setenv("ROOM_CODE_COLLISION", "Retry")

	cfg := Load()
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "file:cinechat.db" {
		t.Fatalf("sqlite defaults not applied: %+v", cfg)
	}
	if cfg.RedisDB != 3 || cfg.RoomIdleTimeout != 90*time.Second || cfg.RoomCodeCollision != "retry" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	t.Setenv("ROOM_IDLE_TIMEOUT", "-5s")
	if Load().RoomIdleTimeout != 0 {
		t.Fatalf("negative timeout accepted")
	}
}
