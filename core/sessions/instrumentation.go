package sessions

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/kajovic/liora-core/core/sessions"

var logger = otelslog.NewLogger(scopeName)
