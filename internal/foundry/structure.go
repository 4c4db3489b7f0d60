package foundry

import (
	"strings"

	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
)

const structureValidMarker = "STRUCTURE_VALID"

// structureChecks verify the Vercel serverless layout inside the sandbox.
var structureChecks = map[manifest.Stack]string{
	manifest.StackNode: `if [ -f api/index.js ] && [ -f vercel.json ]; then
  if grep -q "module.exports" api/index.js; then
    echo "STRUCTURE_VALID"
    exit 0
  fi
  echo "MISSING_EXPORT: api/index.js must have module.exports"
  exit 1
fi
echo "MISSING_FILES: Need api/index.js and vercel.json"
exit 1`,
	manifest.StackPython: `if [ -f api/index.py ] && [ -f vercel.json ]; then
  if grep -q "class handler" api/index.py; then
    echo "STRUCTURE_VALID"
    exit 0
  fi
  echo "MISSING_HANDLER: api/index.py must have 'class handler'"
  exit 1
fi
echo "MISSING_FILES: Need api/index.py and vercel.json"
exit 1`,
}

func containsMarker(output string) bool {
	return strings.Contains(output, structureValidMarker)
}
