// Copyright (C) 2019-2024, Lux Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// zapCoreForWriter builds a JSON zapcore.Core writing to w at info
// level and above, used by NewRotatingFile.
func zapCoreForWriter(w io.Writer, encoderCfg zapcore.EncoderConfig) zapcore.Core {
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	return zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.InfoLevel)
}
