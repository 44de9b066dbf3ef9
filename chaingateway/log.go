package chaingateway

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger plugs a subsystem logger into this package.
func UseLogger(l btclog.Logger) { log = l }
