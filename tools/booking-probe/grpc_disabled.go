//go:build !protogen

package main

import "errors"

func runGrpcProbe(string, probe) (int, map[string]int, error) {
	return 0, nil, errors.New("grpc mode needs a build with -tags protogen")
}
