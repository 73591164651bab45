package transactionapp

import "time"

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Storage struct {
		// Backend is "memory" or "postgres".
		Backend          string `yaml:"backend"`
		ConnectionString string `yaml:"conn_str"`
	} `yaml:"storage"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Limits struct {
		Authorize      int64         `yaml:"authorize"`
		Load           int64         `yaml:"load"`
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	} `yaml:"limits"`
	SeedUsers []SeedUser `yaml:"seed_users"`
}

type SeedUser struct {
	Currency string `yaml:"currency"`
	Balance  string `yaml:"balance"`
}
