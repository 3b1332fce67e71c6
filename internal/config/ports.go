package config

import (
	"os"
	"strconv"
)

func portFromEnv(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}

	port, err := strconv.Atoi(v)
	if err != nil || port < 0 || port > 65535 {
		return 0
	}
	return port
}
