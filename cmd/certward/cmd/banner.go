package cmd

import (
	"fmt"
)

const banner = `
                 _                         _
   ___ ___ _ __ | |___      ____ _ _ __ __| |
  / __/ _ \ '__|| __\ \ /\ / / _` + "`" + ` | '__/ _` + "`" + ` |
 | (_|  __/ |   | |_ \ V  V / (_| | | | (_| |
  \___\___|_|    \__| \_/\_/ \__,_|_|  \__,_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Appliance PKI Lifecycle Manager - Version %s\x1b[0m\n\n", Version)
}
