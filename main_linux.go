//go:build linux

package main

const audioHint = "is PulseAudio or PipeWire running? try: pactl info"
