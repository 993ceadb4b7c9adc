package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the run logger. Logs go to stderr so they never mix
// with the summary on stdout.
func newLogger(verbose, quiet bool) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch {
	case verbose:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level.SetLevel(zap.DebugLevel)
	case quiet:
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level.SetLevel(zap.WarnLevel)
	default:
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level.SetLevel(zap.InfoLevel)
	}

	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = !verbose

	return zapConfig.Build()
}
