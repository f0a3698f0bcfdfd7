// Package cereal wraps a serial port with a continuously-draining receive
// buffer, so data is never lost to the small fixed receive buffer of the
// kernel serial driver (e.g. the Linux 4096-byte limit).
//
// A background goroutine owns the port's receive side and pulls every
// available byte into an unbounded in-memory buffer the moment it arrives.
// Read then serves bytes from that buffer with the familiar blocking
// serial-read semantics: wait for the requested count, return what is there
// when the timeout expires. Code written against a plain synchronous serial
// port can use a cereal.Port without modification, decoupled from the actual
// arrival timing on the wire.
//
// Features:
//   - No byte loss regardless of how slowly the caller reads
//   - Unbounded thread-safe receive buffer, bytes delivered in arrival order
//   - Blocking reads with configurable timeout (negative = wait forever)
//   - Line reads with custom delimiter, flush, break, RTS/DTR control
//   - Cross-platform transport via go.bug.st/serial, plus a raw termios
//     transport on Linux
//   - Port enumeration with ListPorts
//
// Writes bypass the buffer and go straight to the port.
//
// Example usage:
//
//	port, err := cereal.Open(cereal.Config{
//	    Device:  "/dev/ttyUSB0",
//	    Mode:    cereal.Mode{BaudRate: 115200},
//	    Timeout: 2 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	if _, err := port.Write([]byte("C,START\r\n")); err != nil {
//	    log.Println("write failed:", err)
//	}
//
//	data, err := port.Read(4096)
//	if err != nil {
//	    log.Println("read failed:", err)
//	}
//	fmt.Printf("received %d bytes\n", len(data))
//
// At most one goroutine should read from a Port at a time; writes may come
// from any number of goroutines.
package cereal
