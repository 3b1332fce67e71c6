package envvar

const (
	// IgichatEnv is the environment variable used to determine the environment
	IgichatEnv = "IGICHAT_ENV"

	// IgichatModelsPath is the environment variable used to override the shipped models root
	IgichatModelsPath = "IGICHAT_MODELS_PATH"

	// IgichatServerHTTPPort is the environment variable used to determine the HTTP port
	IgichatServerHTTPPort = "IGICHAT_SERVER_HTTP_PORT"

	// IgichatServerGRPCPort is the environment variable used to determine the gRPC port
	IgichatServerGRPCPort = "IGICHAT_SERVER_GRPC_PORT"

	// NvidiaIntegrateKey holds the bearer token for integrate.api.nvidia.com
	NvidiaIntegrateKey = "NVIDIA_INTEGRATE_KEY"

	// OpenAIKey holds the bearer token for openai.com
	OpenAIKey = "OPENAI_KEY"
)
