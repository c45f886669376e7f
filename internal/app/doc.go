// Package app wires authcore for commands: viper-loaded [Settings], a zap
// logger, the persistence backend and the notifier.
package app
