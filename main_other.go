//go:build !linux

package main

const audioHint = "check that the terminal has microphone access in the system privacy settings"
