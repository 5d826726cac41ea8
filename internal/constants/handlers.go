package constants

// File upload constants
const (
	// MaxUploadSize is the maximum multipart upload size in bytes (50MB)
	MaxUploadSize = 50 << 20

	// MaxLivenessFrames is the maximum number of frames accepted by the liveness endpoint
	MaxLivenessFrames = 120
)
