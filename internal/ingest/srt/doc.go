// Package srt receives MPEG-TS over SRT, either by dialing a remote
// listener or by accepting publishers.
package srt
