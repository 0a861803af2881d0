package env

import (
	"github.com/denisbrodbeck/machineid"
)

// MachineID retrieves the ID identifying this host. It's protected with an
// application specific key so the raw machine ID is never published.
func MachineID() string {
	id, err := machineid.ProtectedID("corpc")
	if err != nil {
		panic(err)
	}
	return id[:16]
}
