// Package client provides the `rookery` command-line client.
//
// The CLI talks to the Rookery HTTP and gRPC endpoints. It covers the
// weighing-station side of the system (uploading a measurement with the
// image a camera just wrote) and the operator side (picking the penguin on
// the scale, following the live feed).
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 and can be changed with ROOKERY_HTTP.
// The gRPC address is read from ROOKERY_GRPC (default 127.0.0.1:50051).
//
// Usage
//
//	rookery subject set PNG-007
//
//	# newest .jpg in ./captures modified in the last 10s, weight 5.5 kg
//	rookery upload --dir ./captures
//	rookery upload --weight 6.1 --subject PNG-002 ./captures/IMG-20250314-091500.jpg
//
//	# upload every image the camera writes; the capture time is taken from
//	# IMG-YYYYmmdd-HHMMSS.jpg names when present
//	rookery watch --dir ./captures --settle 1s
//
//	rookery tail --filter 'weight < 4.0'
//	rookery tail --transport grpc --limit 5
//
// Notes
//
//   - upload and watch send multipart POST /penguin requests with a JSON
//     "metadata" part and an "image" file part.
//   - tail prints one JSON object per event with event_id and payload_json.
package client
