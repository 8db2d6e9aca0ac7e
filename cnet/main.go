// Command cnet runs networks of components connected by queues, HTTP
// endpoints and NATS subjects.
package main

import "github.com/pvbeek/componentnetwork/cnet/cmd"

func main() {
	cmd.Execute()
}
