package protocol

// This package implements encoding and decoding of the message bodies that
// numlink peers exchange. Message boundaries are the transport's job, see
// the transport package, so every format here is headerless.
//
// - `Frame` - One logical message. Either a numeric array, a topic message,
//             a text command, an RPC document or a shutdown sentinel.
// - `Sentinel` - A reserved body that asks the peer to stop serving.
//
// === Numeric arrays
//
// A sequence of float64 values, 8 bytes each, in the host's native byte
// order. No length prefix, the length is `len(body) / 8`.
//
//   ```
//     [1.0, 2.0] => 00 00 00 00 00 00 f0 3f 00 00 00 00 00 00 00 40
//   ```
//
// === Topic messages
//
// Used by publishers. The topic is ASCII and never contains 0x00.
//
//   ```
//     temp\x00{"timestamp":1700000000.1,"value":21.5,"sensor_type":"temperature"}
//   ```
//
// Subscribers filter on topic prefixes, so a subscription to `temp` matches
// the message above and a subscription to `vib` does not.
//
// === RPC documents
//
// A UTF-8 JSON object. Requests carry a required `action`:
//
//   ```
//     > {"action":"predict","features":[[1,2],[3,4]]}
//     < {"status":"success","predictions":[0,1]}
//   ```
//
// Responses always carry `status`, either `success` or `error`. Errors
// include a human readable `message`:
//
//   ```
//     < {"status":"error","message":"Model not trained or invalid action"}
//   ```
//
// === Shutdown
//
// Numeric sessions reserve `[-999.0]`, pair sessions reserve the single byte
// 0xFF. Which one applies is configured per session.
//
