package internal

import "time"

type Config struct {
	Host               string        `env:"HOST"`
	Port               int           `env:"PORT,required=true"`
	LogLevel           string        `env:"LOG_LEVEL,required=true"`
	JWTSecret          string        `env:"JWT_SECRET,required=true"`
	JWTIssuer          string        `env:"JWT_ISSUER,required=true"`
	AuthTokenDuration  time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	HandshakeTimeout   time.Duration `env:"HANDSHAKE_TIMEOUT,required=true"`
	OutboundBufferSize int           `env:"OUTBOUND_BUFFER_SIZE,required=true"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT,required=true"`
	PongTimeout        time.Duration `env:"PONG_TIMEOUT,required=true"`
	PingInterval       time.Duration `env:"PING_INTERVAL,required=true"`
	MaxFrameSize       int64         `env:"MAX_FRAME_SIZE,required=true"`
	TokenCacheSize     int           `env:"TOKEN_CACHE_SIZE,required=true"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,required=true"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,required=true"`
}
