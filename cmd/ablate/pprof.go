package main

import "os"
import "runtime/pprof"

// cpuProfile collects profile data into a file usable for profile-guided optimization
type cpuProfile struct {
	f *os.File
}

func startProfile(path string) (*cpuProfile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &cpuProfile{f: f}, nil
}

func (p *cpuProfile) stop() {
	if p == nil {
		return
	}
	pprof.StopCPUProfile()
	p.f.Close()
}
