// Package msync holds small synchronisation primitives shared by envtele subsystems.
package msync

import "fmt"

var ErrTimeout = fmt.Errorf("timeout")
