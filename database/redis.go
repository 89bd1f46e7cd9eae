package database

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"lightoflife/config"

	"github.com/redis/go-redis/v9"
)

var Redis = make(map[int]*redis.Client)

func RedisConnect() {
	for _, db := range strings.Split(config.Default("REDIS_DB", "1"), ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			panic(fmt.Sprintf("invalid REDIS_DB entry %q", db))
		}

		options := &redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Config("REDIS_PORT"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		}

		Redis[dbNumber] = redis.NewClient(options)
	}

	log.Printf("Connections opened to Redis")
}

// RedisClose closes every client opened by RedisConnect.
func RedisClose() {
	for _, client := range Redis {
		client.Close()
	}
}
