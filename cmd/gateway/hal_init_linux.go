//go:build linux
// +build linux

package main

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/edgeflow/modbus/internal/hal"
	"github.com/edgeflow/modbus/internal/logger"
)

// initHAL picks a GPIO backend for the DE pin(s) this gateway needs. On ARM
// boards it tries go-rpio's direct /dev/gpiomem path first for its lower DE
// turnaround latency, falls back to periph.io's character-device registry
// (works on non-Pi ARM boards too), and finally a mock provider so the
// gateway still starts without real GPIO control.
func initHAL() hal.HAL {
	if runtime.GOARCH != "arm64" && runtime.GOARCH != "arm" {
		logger.Info("non-ARM platform detected, using mock HAL for GPIO")
		return hal.NewMockHAL()
	}

	info, err := hal.DetectBoard()
	if err != nil {
		logger.Warn("board detection failed, using mock HAL", zap.Error(err))
		return hal.NewMockHAL()
	}

	if rpiHAL, err := hal.NewRaspberryPiHAL(*info); err == nil {
		logger.Info("raspberry pi HAL initialized",
			zap.String("board", rpiHAL.Info().Name), zap.String("gpio_chip", rpiHAL.Info().GPIOChip))
		return rpiHAL
	} else {
		logger.Warn("go-rpio HAL init failed, falling back to periph.io", zap.Error(err))
	}

	if periphGPIO, err := hal.NewPeriphGPIO(); err == nil {
		logger.Info("periph.io HAL initialized", zap.String("board", info.Name))
		return hal.NewGenericHAL(periphGPIO, *info)
	} else {
		logger.Warn("periph.io HAL init failed, using mock HAL", zap.Error(err))
	}

	return hal.NewMockHAL()
}
