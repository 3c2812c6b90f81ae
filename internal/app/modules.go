package app

import (
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/modules/gain"
	"github.com/vk/lockstepgrid/modules/pointmass"
	"github.com/vk/lockstepgrid/modules/relay"
	"github.com/vk/lockstepgrid/modules/resetter"
)

// coreModules is the definitive list of all modules that are compiled into
// the lockstepgrid binary.
var coreModules = []registry.Module{
	&relay.Module{},
	&gain.Module{},
	&resetter.Module{},
	&pointmass.Module{},
}
