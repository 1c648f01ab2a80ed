package gserve

import (
	"fmt"
	"net"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix 是 LoadConfig 读取的环境变量前缀。
const EnvPrefix = "GSERVE_"

// Config 为服务端配置，NewServer 之后不再修改。
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"` // 0 表示由系统分配

	// Native 为 false 时跳过探测，直接使用可移植传输
	Native bool `env:"NATIVE" envDefault:"true"`

	AcceptorName    string `env:"ACCEPTOR_NAME" envDefault:"boss"`
	WorkerName      string `env:"WORKER_NAME" envDefault:"worker"`
	AcceptorIORatio int    `env:"ACCEPTOR_IO_RATIO" envDefault:"100"`
	WorkerIORatio   int    `env:"WORKER_IO_RATIO" envDefault:"70"`
	WorkerThreads   int    `env:"WORKER_THREADS" envDefault:"0"` // 0 表示 CPU 核数

	Backlog        int  `env:"BACKLOG" envDefault:"1024"`
	ReusePort      bool `env:"REUSE_PORT" envDefault:"false"`
	NoDelay        bool `env:"NO_DELAY" envDefault:"true"`
	RecvBuf        int  `env:"RECV_BUF" envDefault:"0"`
	SendBuf        int  `env:"SEND_BUF" envDefault:"0"`
	ReadBufferSize int  `env:"READ_BUFFER_SIZE" envDefault:"65536"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig 返回与环境变量默认值一致的配置。
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Native:          true,
		AcceptorName:    "boss",
		WorkerName:      "worker",
		AcceptorIORatio: 100,
		WorkerIORatio:   70,
		Backlog:         1024,
		NoDelay:         true,
		ReadBufferSize:  64 << 10,
		LogLevel:        "info",
	}
}

// LoadConfig 从 GSERVE_* 环境变量读取配置并校验。
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("gserve: load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("gserve: port %d out of range", c.Port)
	}
	if c.AcceptorIORatio < 1 || c.AcceptorIORatio > 100 {
		return fmt.Errorf("gserve: acceptor io ratio %d not in [1, 100]", c.AcceptorIORatio)
	}
	if c.WorkerIORatio < 1 || c.WorkerIORatio > 100 {
		return fmt.Errorf("gserve: worker io ratio %d not in [1, 100]", c.WorkerIORatio)
	}
	if c.WorkerThreads < 0 || c.Backlog < 0 || c.RecvBuf < 0 || c.SendBuf < 0 || c.ReadBufferSize < 0 {
		return fmt.Errorf("gserve: negative size in config")
	}
	if c.AcceptorName == "" || c.WorkerName == "" {
		return fmt.Errorf("gserve: loop names must not be empty")
	}
	return nil
}

// Address 返回 host:port 形式的监听地址。
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
