/*
Package log provides structured logging built on zerolog.

A single global Logger is configured once via Init and then wrapped
into component-scoped child loggers via WithComponent, WithNodeID,
WithModel, and WithPackage. All output carries a timestamp; format
(JSON or human-readable console) and minimum level are controlled by
Config.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	regLog := log.WithComponent("registry")
	regLog.Info().Str("node_id", id).Msg("node registered")

	modelLog := log.WithModel("infotainment-model")
	modelLog.Warn().Msg("model state transitioned to error")

# Design

Context loggers are created fresh per call rather than cached: the
cost is one allocation, and it avoids a second place (besides the
component/model/package name itself) where stale state could leak
across requests.
*/
package log
