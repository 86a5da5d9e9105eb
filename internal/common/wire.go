package common

// Sentinel terminates every frame on the wire. It cannot be escaped inside a payload.
const Sentinel byte = 0x00

// WebSocketPath is where the websocket transport accepts upgrades
const WebSocketPath = "/"
