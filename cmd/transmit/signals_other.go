//go:build !unix

package main

import (
	"context"

	"github.com/opendataspace/commons/internal/transmission"
)

func watchControlSignals(context.Context, *transmission.Manager) func() {
	return func() {}
}
