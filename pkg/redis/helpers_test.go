package redis

import (
	"time"

	"github.com/angelmondragon/pos-register/pkg/config"
)

func configWithAddress(addr string) config.RedisConfig {
	return config.RedisConfig{
		Address:     addr,
		PoolSize:    4,
		DialTimeout: time.Second,
	}
}
