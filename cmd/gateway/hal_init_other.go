//go:build !linux
// +build !linux

package main

import (
	"github.com/edgeflow/modbus/internal/hal"
	"github.com/edgeflow/modbus/internal/logger"
)

func initHAL() hal.HAL {
	logger.Info("non-linux platform detected, using mock HAL for GPIO")
	return hal.NewMockHAL()
}
